package zkvm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Region is one labelled slice of an execution's cycle count.
type Region struct {
	Name   string
	Cycles uint64
}

// RegionCycles is an ordered cycle breakdown. It encodes as a JSON object whose keys
// keep insertion order, which a plain map cannot guarantee.
type RegionCycles []Region

// Add appends a region, or accumulates into an existing one with the same name.
func (rc *RegionCycles) Add(name string, cycles uint64) {
	for i := range *rc {
		if (*rc)[i].Name == name {
			(*rc)[i].Cycles += cycles
			return
		}
	}
	*rc = append(*rc, Region{Name: name, Cycles: cycles})
}

// Get returns the cycles recorded for name.
func (rc RegionCycles) Get(name string) (uint64, bool) {
	for _, r := range rc {
		if r.Name == name {
			return r.Cycles, true
		}
	}
	return 0, false
}

// Total sums every region.
func (rc RegionCycles) Total() uint64 {
	var total uint64
	for _, r := range rc {
		total += r.Cycles
	}
	return total
}

func (rc RegionCycles) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, r := range rc {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(r.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatUint(r.Cycles, 10))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (rc *RegionCycles) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("region cycles: invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if doc.Type == gjson.Null {
		*rc = nil
		return nil
	}
	if !doc.IsObject() {
		return fmt.Errorf("region cycles: expected object, got %s", doc.Type)
	}

	out := RegionCycles{}
	seen := make(map[string]struct{})
	var decodeErr error
	doc.ForEach(func(key, value gjson.Result) bool {
		if _, dup := seen[key.String()]; dup {
			decodeErr = fmt.Errorf("region cycles: duplicate region %q", key.String())
			return false
		}
		seen[key.String()] = struct{}{}
		if value.Type != gjson.Number || strings.ContainsAny(value.Raw, ".eE-") {
			decodeErr = fmt.Errorf("region cycles: %q is not an unsigned integer", key.String())
			return false
		}
		cycles, err := strconv.ParseUint(value.Raw, 10, 64)
		if err != nil {
			decodeErr = fmt.Errorf("region cycles: %q: %w", key.String(), err)
			return false
		}
		out.Add(key.String(), cycles)
		return true
	})
	if decodeErr != nil {
		return decodeErr
	}
	*rc = out
	return nil
}

// ExecutionReport is the outcome of running a program without proving it.
type ExecutionReport struct {
	TotalCycles uint64       `json:"total_cycles"`
	Regions     RegionCycles `json:"region_cycles"`
}

// ProvingReport carries proving statistics reported by the engine.
type ProvingReport struct {
	ProvingTime time.Duration `json:"proving_time"`
}

// Verdict is the domain-level result of a verification. A rejected proof is a
// Verdict with Verified=false, never an error.
type Verdict struct {
	Verified bool
	Reason   string
}

// Accepted is the verdict for a proof that verifies.
func Accepted() Verdict {
	return Verdict{Verified: true}
}

// Rejected is the verdict for a proof that does not verify.
func Rejected(reason string) Verdict {
	return Verdict{Verified: false, Reason: reason}
}

// Elapsed is a duration encoded as {"secs": N, "nanos": N}, the shape existing clients
// of the gateway decode.
type Elapsed time.Duration

type elapsedJSON struct {
	Secs  uint64 `json:"secs"`
	Nanos uint32 `json:"nanos"`
}

// Duration converts back to a time.Duration.
func (e Elapsed) Duration() time.Duration {
	return time.Duration(e)
}

func (e Elapsed) MarshalJSON() ([]byte, error) {
	d := time.Duration(e)
	if d < 0 {
		d = 0
	}
	return json.Marshal(elapsedJSON{
		Secs:  uint64(d / time.Second),
		Nanos: uint32(d % time.Second),
	})
}

func (e *Elapsed) UnmarshalJSON(data []byte) error {
	var raw elapsedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("elapsed: %w", err)
	}
	if raw.Nanos >= uint32(time.Second) {
		return fmt.Errorf("elapsed: nanos out of range: %d", raw.Nanos)
	}
	*e = Elapsed(time.Duration(raw.Secs)*time.Second + time.Duration(raw.Nanos))
	return nil
}
