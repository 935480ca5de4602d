// File: internal/devices/yaml.go
package devices

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/humshakals/api/schemas"
)

// deviceFile is the on-disk layout for shared custom device sets.
type deviceFile struct {
	Devices []schemas.DeviceProfile `yaml:"devices"`
}

// ExportYAML writes every custom device to w.
func (r *Registry) ExportYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(deviceFile{Devices: r.Customs()}); err != nil {
		return fmt.Errorf("failed to encode devices: %w", err)
	}
	return enc.Close()
}

// ImportYAML adds every device in the document as a custom device. Entries
// that fail validation or collide with an existing id are skipped and logged.
// Returns the devices that were added.
func (r *Registry) ImportYAML(ctx context.Context, rd io.Reader) ([]schemas.DeviceProfile, error) {
	var doc deviceFile
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode devices: %w", err)
	}

	var added []schemas.DeviceProfile
	for _, d := range doc.Devices {
		got, err := r.AddCustom(ctx, d)
		if err != nil {
			r.log.Warn("Skipping imported device.", zap.String("name", d.Name), zap.Error(err))
			continue
		}
		added = append(added, got)
	}
	return added, nil
}
