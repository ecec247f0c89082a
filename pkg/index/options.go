package index

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// DecodeOptions decodes the free-form backend options of an IndexConfig
// into out, a pointer to a struct with mapstructure tags. String values
// are converted to the field types, so "8" fills an int field.
func DecodeOptions(options map[string]string, out any) error {
	if len(options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("invalid backend options: %w", err)
	}
	return nil
}
