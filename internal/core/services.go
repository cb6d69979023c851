package core

import "github.com/rs/zerolog"

type Services struct {
	Router     *RouterService
	NAS        *NASService
	Accounting *AccountingService
	Subscriber *SubscriberService
	Package    *PackageService
}

// Options carries the few config values the services need directly.
type Options struct {
	TunnelPool           string
	WinboxPortBase       int
	RADIUSFallbackSecret string
	RADIUSServerTag      string
}

func NewServices(db DB, logger zerolog.Logger, opts Options) *Services {
	s := &Services{
		Router:     NewRouterService(db, logger, opts.TunnelPool, opts.WinboxPortBase),
		NAS:        NewNASService(db, logger, opts.RADIUSFallbackSecret, opts.RADIUSServerTag),
		Accounting: NewAccountingService(db, logger),
		Subscriber: NewSubscriberService(db),
		Package:    NewPackageService(db),
	}
	s.Router.Subscribe(s.NAS.Subscriber())
	return s
}
