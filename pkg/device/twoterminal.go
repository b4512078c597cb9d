package device

import "github.com/edp1096/transim/pkg/matrix"

// TwoTerminal holds the stamps shared by every device connected between N1 and
// N2. Devices embed it by value.
type TwoTerminal struct {
	N1, N2 int
}

func (tt TwoTerminal) StampConductance(m matrix.DeviceMatrix, g float64) {
	m.AddElement(tt.N1, tt.N1, g)
	m.AddElement(tt.N1, tt.N2, -g)
	m.AddElement(tt.N2, tt.N1, -g)
	m.AddElement(tt.N2, tt.N2, g)
}

// StampCurrent stamps a current i flowing from N1 through the device to N2.
func (tt TwoTerminal) StampCurrent(m matrix.DeviceMatrix, i float64) {
	m.AddRHS(tt.N1, -i)
	m.AddRHS(tt.N2, i)
}

// StampBranch couples the branch-current unknown k to the terminals: the current
// leaves N1 into the device and returns at N2, and row k receives v(N1)-v(N2).
func (tt TwoTerminal) StampBranch(m matrix.DeviceMatrix, k int) {
	m.AddElement(tt.N1, k, 1)
	m.AddElement(tt.N2, k, -1)
	m.AddElement(k, tt.N1, 1)
	m.AddElement(k, tt.N2, -1)
}

func (tt TwoTerminal) Voltage(ctx *Context) float64 {
	return ctx.Voltage(tt.N1) - ctx.Voltage(tt.N2)
}

func (tt TwoTerminal) PreviousVoltage(ctx *Context) float64 {
	return ctx.PreviousValue(tt.N1) - ctx.PreviousValue(tt.N2)
}

func (tt TwoTerminal) VoltageOf(x []float64) float64 {
	return at(x, tt.N1) - at(x, tt.N2)
}

func at(x []float64, i int) float64 {
	if i <= 0 || i >= len(x) {
		return 0
	}
	return x[i]
}
