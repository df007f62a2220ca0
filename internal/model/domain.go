package model

import (
	"fmt"
	"strings"
)

// RunKind selects which pipeline a run belongs to.
type RunKind string

const (
	KindAssessment RunKind = "assessment"
	KindInventory  RunKind = "inventory"
)

func (k RunKind) Valid() bool {
	return k == KindAssessment || k == KindInventory
}

// Domain is an independent security or inventory category collected by its
// own module.
type Domain string

// Assessment domains.
const (
	DomainIdentityAndAccess Domain = "IdentityAndAccess"
	DomainPrivilegedAccess  Domain = "PrivilegedAccess"
	DomainDeviceAndEndpoint Domain = "DeviceAndEndpoint"
	DomainExchangeEmail     Domain = "ExchangeEmail"
	DomainDataProtection    Domain = "DataProtection"
	DomainDefender          Domain = "Defender"
	DomainAppGovernance     Domain = "AppGovernance"
	DomainCollaboration     Domain = "Collaboration"
)

// Inventory domains.
const (
	DomainUsers             Domain = "Users"
	DomainGroups            Domain = "Groups"
	DomainDevices           Domain = "Devices"
	DomainApplications      Domain = "Applications"
	DomainServicePrincipals Domain = "ServicePrincipals"
	DomainLicenses          Domain = "Licenses"
	DomainDomains           Domain = "Domains"
	DomainSites             Domain = "Sites"
)

// AssessmentDomains is the declaration order used to execute assessment runs.
var AssessmentDomains = []Domain{
	DomainIdentityAndAccess,
	DomainPrivilegedAccess,
	DomainDeviceAndEndpoint,
	DomainExchangeEmail,
	DomainDataProtection,
	DomainDefender,
	DomainAppGovernance,
	DomainCollaboration,
}

// InventoryDomains is the declaration order used to execute inventory runs.
var InventoryDomains = []Domain{
	DomainUsers,
	DomainGroups,
	DomainDevices,
	DomainApplications,
	DomainServicePrincipals,
	DomainLicenses,
	DomainDomains,
	DomainSites,
}

// DomainsFor returns a copy of the known domains for kind, in execution order.
func DomainsFor(kind RunKind) []Domain {
	switch kind {
	case KindAssessment:
		return append([]Domain(nil), AssessmentDomains...)
	case KindInventory:
		return append([]Domain(nil), InventoryDomains...)
	default:
		return nil
	}
}

// DomainOrder returns the position of d in kind's declaration order, or -1.
func DomainOrder(kind RunKind, d Domain) int {
	var list []Domain
	switch kind {
	case KindAssessment:
		list = AssessmentDomains
	case KindInventory:
		list = InventoryDomains
	}
	for i, x := range list {
		if x == d {
			return i
		}
	}
	return -1
}

// ParseDomain resolves a case-insensitive domain name for kind.
func ParseDomain(kind RunKind, s string) (Domain, error) {
	s = strings.TrimSpace(s)
	for _, d := range DomainsFor(kind) {
		if strings.EqualFold(string(d), s) {
			return d, nil
		}
	}
	return "", fmt.Errorf("unknown %s domain %q", kind, s)
}
