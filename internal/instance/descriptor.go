package instance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Iron-Ham/cubic/internal/errors"
)

// DescriptorFileName is the descriptor stored in every instance directory.
const DescriptorFileName = "instance.cub"

// descriptor is the on-disk form. Pointers distinguish missing fields from
// empty ones.
type descriptor struct {
	Name       *string `json:"name"`
	Version    *string `json:"version"`
	LastPlayed *int64  `json:"lastPlayed"`
}

// EncodeDescriptor serializes inst as
// {"name": ..., "version": ..., "lastPlayed": <epoch ms>}. An instance that
// was never played is written with lastPlayed 0.
func EncodeDescriptor(inst Instance) ([]byte, error) {
	var ms int64
	if !inst.LastPlayed.IsZero() {
		ms = inst.LastPlayed.UnixMilli()
	}
	d := descriptor{
		Name:       &inst.Name,
		Version:    &inst.Version,
		LastPlayed: &ms,
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// DecodeDescriptor parses a descriptor. Missing name or version, values of
// the wrong type, unknown fields and trailing data are errors matching
// errors.ErrDescriptorCorrupted.
func DecodeDescriptor(data []byte) (Instance, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d descriptor
	if err := dec.Decode(&d); err != nil {
		return Instance{}, corrupted("invalid descriptor", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Instance{}, corrupted("trailing data after descriptor", nil)
	}

	if d.Name == nil {
		return Instance{}, corrupted("descriptor is missing \"name\"", nil)
	}
	if d.Version == nil {
		return Instance{}, corrupted("descriptor is missing \"version\"", nil)
	}

	inst := Instance{Name: *d.Name, Version: *d.Version}
	if d.LastPlayed != nil && *d.LastPlayed > 0 {
		inst.LastPlayed = time.UnixMilli(*d.LastPlayed)
	}
	return inst, nil
}

func corrupted(msg string, cause error) error {
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", errors.ErrDescriptorCorrupted, msg, cause)
	}
	return fmt.Errorf("%w: %s", errors.ErrDescriptorCorrupted, msg)
}
