package device

import "modbusbaby/internal/mbmaster"

// Hooks is the only extension point a concrete driver (relaydrv, adcdrv)
// implements: composition in place of subclassing a base class with
// virtual function overrides.
type Hooks interface {
	// ID is the trace-log prefix, e.g. "WRELAY:", "WMBADC:".
	ID() string
	MaxInputs() uint8
	MaxOutputs() uint8

	// OnOpen schedules whatever initial reads this device kind needs,
	// after the base class has already queued ReadVersion/ReadDeviceAddr.
	OnOpen()

	// OnPollTick runs whenever the pending-function queue drains; it tops
	// up periodic status reads. From its first call on, the poll timer runs
	// at the steady-state poll interval. If the queue is still empty right
	// after it returns, the base class stops the poll timer; the next
	// ScheduleFunction restarts it.
	OnPollTick()

	// DispatchFunction translates a scheduled function id that the base
	// class doesn't own into an actual transport request.
	DispatchFunction(id FunctionID)

	// HandleCoils/HandleDiscreteInputs/HandleHoldingRegisters/
	// HandleInputRegisters are called once per matching Received event.
	// A driver whose switch doesn't recognise the current function should
	// fall back to the Base's default handler for that register kind.
	HandleCoils(unit mbmaster.DataUnit) bool
	HandleDiscreteInputs(unit mbmaster.DataUnit) bool
	HandleHoldingRegisters(unit mbmaster.DataUnit) bool
	HandleInputRegisters(unit mbmaster.DataUnit) bool
}
