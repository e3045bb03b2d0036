// Package cloud provides the cloud account directory that rules use to tell
// production accounts apart and to name accounts in alert titles.
package cloud

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"siem-detect/internal/rule"
	"siem-detect/internal/schema"
)

// NotFound is returned by AccountName for unknown account IDs.
const NotFound = "not found"

// Environment names.
const (
	EnvProduction  = "Production"
	EnvDevelopment = "Development"
	EnvTest        = "Test"
)

// FallbackAccountID is used by SampleAccountID when the directory is empty.
const FallbackAccountID = "123456789012"

// Account is one cloud account.
type Account struct {
	ID   string `yaml:"accountID" validate:"required,numeric,len=12"`
	Name string `yaml:"accountName" validate:"required"`
}

type entry struct {
	account     Account
	environment string
}

// Directory maps account IDs to names and environments. It is read-only
// after construction and safe for concurrent use.
type Directory struct {
	environments map[string][]Account
	byID         map[string]entry
}

// Document is the YAML form of a directory.
type Document struct {
	Environments map[string][]Account `yaml:"environments"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// New builds a directory from accounts grouped by environment. An account ID
// may appear only once across all environments.
func New(environments map[string][]Account) (*Directory, error) {
	validateOnce.Do(func() { validate = validator.New() })

	d := &Directory{
		environments: make(map[string][]Account, len(environments)),
		byID:         make(map[string]entry),
	}
	for env, accounts := range environments {
		for _, acct := range accounts {
			if err := validate.Struct(acct); err != nil {
				return nil, fmt.Errorf("environment %s: invalid account %q: %w", env, acct.ID, err)
			}
			if prev, ok := d.byID[acct.ID]; ok {
				return nil, fmt.Errorf("account %s listed in both %s and %s", acct.ID, prev.environment, env)
			}
			d.byID[acct.ID] = entry{account: acct, environment: env}
		}
		d.environments[env] = append([]Account(nil), accounts...)
	}
	return d, nil
}

// Default returns the built-in directory.
func Default() *Directory {
	d, err := New(map[string][]Account{
		EnvProduction: {
			{ID: "988776655444", Name: "Blue"},
			{ID: "444556677788", Name: "Red"},
		},
		EnvDevelopment: {},
		EnvTest:        {},
	})
	if err != nil {
		panic(err)
	}
	return d
}

// Parse decodes a YAML directory document.
func Parse(data []byte) (*Directory, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse account directory: %w", err)
	}
	return New(doc.Environments)
}

// LoadFile reads a YAML directory document from path.
func LoadFile(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read account directory: %w", err)
	}
	return Parse(data)
}

// Lookup returns the account with id and its environment.
func (d *Directory) Lookup(id string) (Account, string, bool) {
	e, ok := d.byID[strings.TrimSpace(id)]
	return e.account, e.environment, ok
}

// AccountName returns the account name for id, or NotFound.
func (d *Directory) AccountName(id string) string {
	if acct, _, ok := d.Lookup(id); ok {
		return acct.Name
	}
	return NotFound
}

// InEnvironment reports whether id belongs to env.
func (d *Directory) InEnvironment(id, env string) bool {
	_, got, ok := d.Lookup(id)
	return ok && got == env
}

// IsProduction reports whether id is a production account.
func (d *Directory) IsProduction(id string) bool {
	return d.InEnvironment(id, EnvProduction)
}

// IDs returns the account IDs of env, sorted.
func (d *Directory) IDs(env string) []string {
	accounts := d.environments[env]
	ids := make([]string, 0, len(accounts))
	for _, a := range accounts {
		ids = append(ids, a.ID)
	}
	sort.Strings(ids)
	return ids
}

// ProductionIDs returns the production account IDs, sorted.
func (d *Directory) ProductionIDs() []string {
	return d.IDs(EnvProduction)
}

// SampleAccountID returns an account ID for test fixtures: the first
// production account, else the first development account, else the first
// test account, else FallbackAccountID.
func (d *Directory) SampleAccountID() string {
	for _, env := range []string{EnvProduction, EnvDevelopment, EnvTest} {
		if ids := d.IDs(env); len(ids) > 0 {
			return ids[0]
		}
	}
	return FallbackAccountID
}

// ProductionFilter returns an include filter that passes events whose
// account ID, read at path, is a production account. The path defaults to
// recipientAccountId.
func (d *Directory) ProductionFilter(path ...string) rule.Filter {
	if len(path) == 0 {
		path = []string{"recipientAccountId"}
	}
	return func(e *schema.Event) bool {
		v := e.DeepGet(path...)
		return !v.IsNull() && d.IsProduction(v.String())
	}
}

// AccountNameOf names the account whose ID is at path in e.
func (d *Directory) AccountNameOf(e *schema.Event, path ...string) string {
	v := e.DeepGet(path...)
	if v.IsNull() {
		return NotFound
	}
	return d.AccountName(v.String())
}
