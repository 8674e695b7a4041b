package mqtt

import (
	"encoding/json"

	"github.com/backkem/mapper/pkg/db"
	"github.com/backkem/mapper/pkg/value"
)

type devicePayload struct {
	Name       string         `json:"name"`
	Ordinal    int            `json:"ordinal"`
	Host       string         `json:"host"`
	Port       int            `json:"port"`
	Interface  string         `json:"interface,omitempty"`
	NumInputs  int            `json:"num_inputs"`
	NumOutputs int            `json:"num_outputs"`
	Properties map[string]any `json:"properties,omitempty"`
}

type signalPayload struct {
	Device     string         `json:"device"`
	Name       string         `json:"name"`
	Direction  string         `json:"direction"`
	Type       string         `json:"type"`
	Length     int            `json:"length"`
	Unit       string         `json:"unit,omitempty"`
	Minimum    any            `json:"min,omitempty"`
	Maximum    any            `json:"max,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type linkPayload struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	ID   string `json:"id"`
}

type mappingPayload struct {
	Src        string `json:"src"`
	Dest       string `json:"dest"`
	ID         string `json:"id"`
	Mode       string `json:"mode"`
	Expression string `json:"expression"`
	Range      [4]any `json:"range"`
	ClipMin    string `json:"clip_min"`
	ClipMax    string `json:"clip_max"`
	Muted      bool   `json:"muted"`
}

func properties(p *value.Properties) map[string]any {
	if p == nil || p.Len() == 0 {
		return nil
	}
	return p.Map()
}

func encodeDevice(rec *db.DeviceRecord) ([]byte, error) {
	return json.Marshal(devicePayload{
		Name:       rec.Name,
		Ordinal:    rec.Ordinal,
		Host:       rec.Host,
		Port:       rec.Port,
		Interface:  rec.Interface,
		NumInputs:  rec.NumInputs,
		NumOutputs: rec.NumOutputs,
		Properties: properties(rec.Properties),
	})
}

func encodeSignal(rec *db.SignalRecord) ([]byte, error) {
	return json.Marshal(signalPayload{
		Device:     rec.DeviceName,
		Name:       rec.Name,
		Direction:  rec.Direction.String(),
		Type:       rec.Type.String(),
		Length:     rec.Length,
		Unit:       rec.Unit,
		Minimum:    rec.Minimum.Any(),
		Maximum:    rec.Maximum.Any(),
		Properties: properties(rec.Properties),
	})
}

func encodeLink(rec *db.LinkRecord) ([]byte, error) {
	return json.Marshal(linkPayload{Src: rec.SrcName, Dest: rec.DestName, ID: hexID(rec.ID)})
}

func encodeMapping(rec *db.MappingRecord) ([]byte, error) {
	p := mappingPayload{
		Src:        rec.SrcName,
		Dest:       rec.DestName,
		ID:         hexID(rec.ID),
		Mode:       rec.Mode.String(),
		Expression: rec.Expression,
		ClipMin:    rec.ClipMin.String(),
		ClipMax:    rec.ClipMax.String(),
		Muted:      rec.Muted,
	}
	for i, v := range rec.Range {
		p.Range[i] = v.Any()
	}
	return json.Marshal(p)
}
