package sdk

// Token names a capability a plugin can require from the host.
type Token string

// TokenEventListener is the capability token of the event listener service.
// The service registered under it implements EventListener.
const TokenEventListener Token = "jupyterlab-eventlistener:IEventListener"

// Plugin describes a host-loaded unit of extension code.
//
// Activate is called once by the host, after every token in Requires has been
// resolved. Deactivate is optional and runs on host shutdown.
type Plugin struct {
	ID          string
	Description string
	AutoStart   bool
	Requires    []Token
	Activate    func(app Context) error
	Deactivate  func() error
}
