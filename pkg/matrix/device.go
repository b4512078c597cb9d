package matrix

// DeviceMatrix is the stamping surface handed to components. Indices are 0-based
// and include the ground row; every call adds to what is already there.
type DeviceMatrix interface {
	AddElement(i, j int, value float64)
	AddRHS(i int, value float64)
}
