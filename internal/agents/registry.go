package agents

import "github.com/opensource-finance/kestrel/internal/domain"

// Registry builds the built-in agent set, one per analysis domain, keyed
// by domain name.
func Registry(repo domain.Repository, scorer Scorer) map[string]domain.DomainAgent {
	return map[string]domain.DomainAgent{
		domain.DomainDevice:    NewDeviceAgent(repo),
		domain.DomainNetwork:   NewNetworkAgent(repo),
		domain.DomainLocation:  NewLocationAgent(repo),
		domain.DomainActivity:  NewActivityAgent(repo),
		domain.DomainAggregate: NewAggregateAgent(repo, scorer),
	}
}
