// Package mapper connects typed signals between devices on a local network.
//
// A Device publishes input and output signals. It allocates a unique name
// ("/<base>.<ordinal>") on the admin bus, answers requests from monitors,
// and routes every update of an output through the mappings that start
// there.
//
// A Monitor mirrors every device, signal, link and mapping it hears about
// into a db.Database, fires the database callbacks, and sends mapping
// requests (connect, modify, disconnect) on behalf of client code.
//
// Nothing runs in the background. All network input is handled, and all
// callbacks and signal handlers run, inside Poll:
//
//	dev, err := mapper.NewDevice(mapper.DeviceConfig{Name: "synth"})
//	if err != nil {
//		return err
//	}
//	defer dev.Close()
//	dev.AddInput("/freq", value.TypeInt32, 1, onFreq, "Hz")
//	for running {
//		dev.Poll(100 * time.Millisecond)
//	}
package mapper
