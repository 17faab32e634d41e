package gpu

// NewDevice opens the device described by cfg. Builds without accelerator
// bindings only provide the simulated device.
func NewDevice(cfg Config) (Device, error) {
	if cfg.Simulated {
		return NewSimulated(cfg, nil), nil
	}
	return nil, ErrGPUNotAvailable
}
