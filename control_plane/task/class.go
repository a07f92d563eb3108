package task

import (
	"fmt"
	"strings"
)

// Class is an execution class: a pool of interchangeable executors.
type Class int

const (
	Edge Class = iota
	Cloud
	Accelerator
)

// NumClasses is the size of the class set. Per-class arrays are indexed by Class.
const NumClasses = 3

// Classes lists every class in index order.
var Classes = [NumClasses]Class{Edge, Cloud, Accelerator}

func (c Class) String() string {
	switch c {
	case Edge:
		return "EDGE"
	case Cloud:
		return "CLOUD"
	case Accelerator:
		return "GPU"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Valid reports whether c is one of the three known classes.
func (c Class) Valid() bool {
	return c >= Edge && c <= Accelerator
}

// ParseClass accepts the wire labels (EDGE, CLOUD, GPU) case-insensitively,
// plus "accelerator" as an alias for GPU.
func ParseClass(s string) (Class, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EDGE":
		return Edge, nil
	case "CLOUD":
		return Cloud, nil
	case "GPU", "ACCELERATOR":
		return Accelerator, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownClass, s)
}

func (c Class) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, int(c))
	}
	return []byte(c.String()), nil
}

func (c *Class) UnmarshalText(b []byte) error {
	parsed, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
