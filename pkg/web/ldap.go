package web

import (
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/cloudbro-ops/runguard/pkg/config"
	"github.com/cloudbro-ops/runguard/pkg/log"
)

// LDAPUser holds the directory attributes the approval service cares about.
type LDAPUser struct {
	Username    string
	DN          string
	DisplayName string
	Email       string
	Role        string // admin or operator, from group membership
}

// LDAPProvider authenticates operators against a directory server by
// binding with their own credentials. With a service account configured it
// resolves the user DN by search first; without one it builds the DN from
// the user attribute and base DN directly.
type LDAPProvider struct {
	cfg config.LDAPConfig
}

// NewLDAPProvider creates a provider for the given directory settings.
func NewLDAPProvider(cfg config.LDAPConfig) *LDAPProvider {
	if cfg.UserAttribute == "" {
		cfg.UserAttribute = "uid"
	}
	return &LDAPProvider{cfg: cfg}
}

// Enabled reports whether a directory URL is configured.
func (p *LDAPProvider) Enabled() bool {
	return p.cfg.URL != ""
}

// Config returns the provider settings. The bind password is excluded from
// JSON by its config tag, so this is safe to expose on status endpoints.
func (p *LDAPProvider) Config() config.LDAPConfig {
	return p.cfg
}

func (p *LDAPProvider) connect() (*ldap.Conn, error) {
	var opts []ldap.DialOpt
	if strings.HasPrefix(p.cfg.URL, "ldaps://") && p.cfg.SkipTLSVerify {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{InsecureSkipVerify: true}))
	}

	conn, err := ldap.DialURL(p.cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to directory %s: %w", p.cfg.URL, err)
	}
	return conn, nil
}

// TestConnection dials the directory and, if a service account is
// configured, verifies its bind.
func (p *LDAPProvider) TestConnection() error {
	if !p.Enabled() {
		return fmt.Errorf("no directory URL configured")
	}

	conn, err := p.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	if p.cfg.BindDN != "" {
		if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
			return fmt.Errorf("service account bind failed: %w", err)
		}
	}
	return nil
}

// Authenticate verifies credentials by binding as the user and returns the
// resolved directory attributes.
func (p *LDAPProvider) Authenticate(username, password string) (*LDAPUser, error) {
	// An empty password would turn the user bind into an anonymous bind,
	// which most servers accept. Refuse it outright.
	if password == "" {
		return nil, fmt.Errorf("invalid credentials")
	}

	conn, err := p.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	user := &LDAPUser{
		Username: username,
		Role:     "operator",
	}

	var groups []string
	if p.cfg.BindDN != "" {
		entry, err := p.searchUser(conn, username)
		if err != nil {
			return nil, err
		}
		user.DN = entry.DN
		user.DisplayName = entry.GetAttributeValue("cn")
		user.Email = entry.GetAttributeValue("mail")
		groups = entry.GetAttributeValues("memberOf")
	} else {
		user.DN = fmt.Sprintf("%s=%s,%s", p.cfg.UserAttribute, ldap.EscapeDN(username), p.cfg.BaseDN)
	}

	if err := conn.Bind(user.DN, password); err != nil {
		log.Debugf("LDAP bind failed for %s: %v", user.DN, err)
		return nil, fmt.Errorf("invalid credentials")
	}

	// Without a service account the attributes are only readable after the
	// user's own bind.
	if p.cfg.BindDN == "" {
		if entry, err := p.readEntry(conn, user.DN); err == nil {
			user.DisplayName = entry.GetAttributeValue("cn")
			user.Email = entry.GetAttributeValue("mail")
			groups = entry.GetAttributeValues("memberOf")
		}
	}

	if p.isAdmin(groups) {
		user.Role = "admin"
	}
	return user, nil
}

// searchUser resolves a username to its directory entry via the service
// account.
func (p *LDAPProvider) searchUser(conn *ldap.Conn, username string) (*ldap.Entry, error) {
	if err := conn.Bind(p.cfg.BindDN, p.cfg.BindPassword); err != nil {
		return nil, fmt.Errorf("service account bind failed: %w", err)
	}

	filter := fmt.Sprintf("(%s=%s)", p.cfg.UserAttribute, ldap.EscapeFilter(username))
	req := ldap.NewSearchRequest(
		p.cfg.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, 0, false,
		filter,
		[]string{"dn", "cn", "mail", "memberOf"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, fmt.Errorf("directory search failed: %w", err)
	}
	if len(result.Entries) != 1 {
		return nil, fmt.Errorf("invalid credentials")
	}
	return result.Entries[0], nil
}

// readEntry fetches a single entry by DN.
func (p *LDAPProvider) readEntry(conn *ldap.Conn, dn string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		dn,
		ldap.ScopeBaseObject, ldap.NeverDerefAliases, 1, 0, false,
		"(objectClass=*)",
		[]string{"dn", "cn", "mail", "memberOf"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, err
	}
	if len(result.Entries) == 0 {
		return nil, fmt.Errorf("entry not found: %s", dn)
	}
	return result.Entries[0], nil
}

func (p *LDAPProvider) isAdmin(groups []string) bool {
	if p.cfg.AdminGroup == "" {
		return false
	}
	for _, g := range groups {
		if strings.EqualFold(g, p.cfg.AdminGroup) {
			return true
		}
	}
	return false
}
