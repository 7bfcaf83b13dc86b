package codec

import "fmt"

// CapacityError indicates a destination buffer region was too small for
// the requested encoding.
type CapacityError struct {
	Required  int
	Available int
}

func (e CapacityError) Error() string {
	return fmt.Sprintf("insufficient buffer capacity: required %d bytes, available %d", e.Required, e.Available)
}

// TruncatedFragmentError indicates a fragment ended before the fields a
// template requires could be read.
type TruncatedFragmentError struct {
	TemplateID uint16
	Required   int
	Available  int
}

func (e TruncatedFragmentError) Error() string {
	return fmt.Sprintf("truncated fragment for template %d: required %d bytes, available %d", e.TemplateID, e.Required, e.Available)
}
