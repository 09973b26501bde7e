package device

// Notification is the event union a driver base publishes upward to its
// consumer (a concrete driver adds its own domain events on the same
// channel — relay_changed, channel_changed, ...). The marker method is
// exported so a concrete driver package can define its own event types
// and feed them through Base.Emit without Base knowing about them.
type Notification interface{ DeviceNotification() }

type OpenedEvent struct{}
type ClosedEvent struct{}
type AddressChangedEvent struct{ Address byte }
type IntervalChangedEvent struct{ IntervalMs uint32 }
type CompleteEvent struct{ Function FunctionID }

func (OpenedEvent) DeviceNotification()          {}
func (ClosedEvent) DeviceNotification()          {}
func (AddressChangedEvent) DeviceNotification()  {}
func (IntervalChangedEvent) DeviceNotification() {}
func (CompleteEvent) DeviceNotification()        {}
