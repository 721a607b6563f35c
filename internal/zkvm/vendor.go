// Package zkvm defines the capability contract every zkVM backend implements and the
// value types that flow between the gateway and those backends.
package zkvm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Vendor identifies the backend family that produced a loaded program.
type Vendor string

const (
	VendorRisc0 Vendor = "risc0"
	VendorSP1   Vendor = "sp1"
)

// Vendors lists every supported vendor in a stable order.
func Vendors() []Vendor {
	return []Vendor{VendorRisc0, VendorSP1}
}

// ParseVendor converts a case-insensitive vendor name.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VendorRisc0):
		return VendorRisc0, nil
	case string(VendorSP1):
		return VendorSP1, nil
	default:
		return "", fmt.Errorf("unsupported zkVM type: %s. Supported types are: risc0, sp1", s)
	}
}

// Valid reports whether v is one of the known vendors.
func (v Vendor) Valid() bool {
	return v == VendorRisc0 || v == VendorSP1
}

func (v Vendor) String() string {
	return string(v)
}

func (v Vendor) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

func (v *Vendor) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseVendor(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalText lets config files and env values name vendors in any case.
func (v *Vendor) UnmarshalText(text []byte) error {
	parsed, err := ParseVendor(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Operation names one of the three capability calls.
type Operation string

const (
	OpExecute Operation = "execute"
	OpProve   Operation = "prove"
	OpVerify  Operation = "verify"
)

// Operations lists every operation in request-flow order.
func Operations() []Operation {
	return []Operation{OpExecute, OpProve, OpVerify}
}

// ParseOperation converts a case-insensitive operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(strings.TrimSpace(s))); op {
	case OpExecute, OpProve, OpVerify:
		return op, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

func (o Operation) String() string {
	return string(o)
}
