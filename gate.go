package qcontrol

// Symbolic gate names understood by the pulse drivers.
const (
	GateH    = "H"
	GateX    = "X"
	GateY    = "Y"
	GateZ    = "Z"
	GateS    = "S"
	GateT    = "T"
	GateSWAP = "SWAP"
	GateCNOT = "CNOT"
	GateCZ   = "CZ"
)

// Audit actions.
const (
	ActionCalibrate       = "calibrate"
	ActionGate            = "gate"
	ActionGateParallel    = "gate_parallel"
	ActionTwoQubitGate    = "two_qubit_gate"
	ActionCrossModuleGate = "cross_module_gate"
	ActionMeasurePhysical = "measure_physical"
	ActionMeasureLogical  = "measure_logical"
)
