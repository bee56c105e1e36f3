package publish

import "github.com/technosupport/ts-vms/internal/frameio"

// ToWire converts the in-process envelope/event model into the publisher
// wire shape shared by the event-stream and metadata-store sinks.
func ToWire(env frameio.Envelope) Envelope {
	extras := make(map[string]any, len(env.Payload.Extras))
	for k, v := range env.Payload.Extras {
		switch v.Kind {
		case frameio.ExtraString:
			extras[k] = v.S
		case frameio.ExtraInt:
			extras[k] = v.I
		case frameio.ExtraFloat:
			extras[k] = v.F
		case frameio.ExtraBool:
			extras[k] = v.B
		}
	}
	return Envelope{
		EventID:  env.EventID,
		CameraID: env.CameraID,
		Producer: env.Producer,
		Payload: Payload{
			CameraID: env.Payload.CameraID,
			Type:     env.Payload.Type,
			Label:    env.Payload.Label,
			Conf:     env.Payload.Conf,
			BBox:     [4]float64{env.Payload.BBox.X1, env.Payload.BBox.Y1, env.Payload.BBox.X2, env.Payload.BBox.Y2},
			TSMs:     env.Payload.TSMs,
			Extras:   extras,
		},
	}
}
