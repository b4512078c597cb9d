package consts

const (
	CHARGE    = 1.6021918e-19 // Elementary charge (C)
	BOLTZMANN = 1.3806226e-23 // Boltzmann constant (J/K)
	ROOMTEMP  = 300.15        // 27 degC (K)
)

const (
	GMIN         = 1e-12 // Shunt conductance floor for energy-storage devices (S)
	INITIALGUESS = 1e-6  // Uniform starting point of every DC tier
	GROUND       = 0     // Index of the reference node
)
