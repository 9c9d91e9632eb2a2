// Package validate holds the pure input validators. Each function
// normalizes its input and reports why it was rejected; callers map
// failures onto the wire error taxonomy.
package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	phoneRe    = regexp.MustCompile(`^[6-9][0-9]{9}$`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	gstRe      = regexp.MustCompile(`^[0-9]{2}[A-Z]{5}[0-9]{4}[A-Z][1-9A-Z]Z[0-9A-Z]$`)
	upiRe      = regexp.MustCompile(`^[a-z0-9._-]+@[a-z0-9]+$`)
	ifscRe     = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	vehicleRe  = regexp.MustCompile(`^[A-Z]{2}-[0-9]{2}-[A-Z]{1,2}-[0-9]{4}$`)
	nonDigit   = regexp.MustCompile(`[^0-9]`)
	vehicleSep = regexp.MustCompile(`[\s.\-]+`)
	employeeRe = regexp.MustCompile(`^AGT-[A-Z]{2}-[0-9]{3}$`)
)

// Indian driving licence numbers vary by issuing state. Accepted after
// uppercasing and whitespace removal.
var dlPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Z]{2}[0-9]{13}$`),
	regexp.MustCompile(`^[A-Z]{2}-[0-9]{2}-[0-9]{4}-[0-9]{7}$`),
	regexp.MustCompile(`^[A-Z]{2}[0-9]{2}/[0-9]{4}/[0-9]{7}$`),
}

// Phone strips non-digits, keeps the last ten and requires an Indian
// mobile (leading 6-9). Returns the normalized ten-digit form.
func Phone(raw string) (string, error) {
	digits := nonDigit.ReplaceAllString(raw, "")
	if len(digits) > 10 {
		digits = digits[len(digits)-10:]
	}
	if !phoneRe.MatchString(digits) {
		return "", errors.New("invalid mobile number")
	}
	return digits, nil
}

// Email case-folds and checks basic shape.
func Email(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if !emailRe.MatchString(email) {
		return "", errors.New("invalid email address")
	}
	return email, nil
}

// GST uppercases and checks the 15-character GSTIN layout.
func GST(raw string) (string, error) {
	gst := strings.ToUpper(strings.TrimSpace(raw))
	if !gstRe.MatchString(gst) {
		return "", errors.New("invalid GST number")
	}
	return gst, nil
}

// UPI lowercases and checks the VPA shape (handle@psp).
func UPI(raw string) (string, error) {
	vpa := strings.ToLower(strings.TrimSpace(raw))
	if !upiRe.MatchString(vpa) {
		return "", errors.New("invalid UPI id")
	}
	return vpa, nil
}

// IFSC uppercases and checks the 11-character bank branch code.
func IFSC(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if !ifscRe.MatchString(code) {
		return "", errors.New("invalid IFSC code")
	}
	return code, nil
}

// VehicleNumber uppercases, collapses spaces, dots and hyphen runs to
// single hyphens and checks the registration plate layout.
func VehicleNumber(raw string) (string, error) {
	number := strings.ToUpper(strings.TrimSpace(raw))
	number = vehicleSep.ReplaceAllString(number, "-")
	number = strings.Trim(number, "-")
	if !vehicleRe.MatchString(number) {
		return "", errors.New("invalid vehicle registration number")
	}
	return number, nil
}

// DrivingLicense uppercases, removes whitespace and accepts any of the
// known state layouts.
func DrivingLicense(raw string) (string, error) {
	dl := strings.ToUpper(raw)
	dl = strings.Join(strings.Fields(dl), "")
	for _, re := range dlPatterns {
		if re.MatchString(dl) {
			return dl, nil
		}
	}
	return "", errors.New("invalid driving license number")
}

// DLExpiry parses YYYY-MM-DD and requires a date strictly after today
// at local midnight.
func DLExpiry(raw string, now time.Time) (time.Time, error) {
	expiry, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(raw), now.Location())
	if err != nil {
		return time.Time{}, errors.New("invalid license expiry date")
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if !expiry.After(midnight) {
		return time.Time{}, errors.New("license expiry must be in the future")
	}
	return expiry, nil
}

// Name requires at least two characters after trimming.
func Name(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if len(name) < 2 {
		return "", errors.New("name must be at least 2 characters")
	}
	return name, nil
}

// EmployeeID checks the AGT-XX-NNN agent identifier layout.
func EmployeeID(raw string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(raw))
	if !employeeRe.MatchString(id) {
		return "", errors.New("invalid employee id")
	}
	return id, nil
}

// MaskDL renders a licence for display: first two characters, four
// asterisks, last four characters. Storage keeps the clear form.
func MaskDL(dl string) string {
	if len(dl) < 6 {
		return dl
	}
	return dl[:2] + "****" + dl[len(dl)-4:]
}

// VehicleClass is one row of the eligibility table.
type VehicleClass struct {
	Type          string  `json:"vehicleType"`
	MaxCapacityKg float64 `json:"maxCapacityKg"`
	MaxRadiusKm   float64 `json:"maxRadiusKm"`
}

// VehicleClasses is the authoritative eligibility table, in display order.
var VehicleClasses = []VehicleClass{
	{Type: "BIKE", MaxCapacityKg: 20, MaxRadiusKm: 10},
	{Type: "AUTO", MaxCapacityKg: 100, MaxRadiusKm: 30},
	{Type: "PICKUP_VAN", MaxCapacityKg: 500, MaxRadiusKm: 80},
	{Type: "SMALL_TRUCK", MaxCapacityKg: 2000, MaxRadiusKm: 150},
}

// VehicleClassFor resolves a vehicle type to its eligibility row.
func VehicleClassFor(vehicleType string) (VehicleClass, bool) {
	for _, class := range VehicleClasses {
		if class.Type == vehicleType {
			return class, true
		}
	}
	return VehicleClass{}, false
}

// PayloadCapacity requires a positive capacity within the class limit.
func PayloadCapacity(vehicleType string, capacityKg float64) error {
	class, ok := VehicleClassFor(vehicleType)
	if !ok {
		return errors.New("unknown vehicle type")
	}
	if capacityKg <= 0 {
		return errors.New("payload capacity must be positive")
	}
	if capacityKg > class.MaxCapacityKg {
		return fmt.Errorf("payload capacity exceeds %s limit of %.0f kg", class.Type, class.MaxCapacityKg)
	}
	return nil
}
