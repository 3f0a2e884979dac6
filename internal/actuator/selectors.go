package actuator

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Selectors locate the marketplace elements the actuator drives. All values
// are playwright selectors.
type Selectors struct {
	// login form
	LoginEmail    string `yaml:"login_email" validate:"required"`
	LoginPassword string `yaml:"login_password" validate:"required"`
	LoginSubmit   string `yaml:"login_submit" validate:"required"`
	// LoggedIn appears only once authentication succeeded.
	LoggedIn string `yaml:"logged_in" validate:"required"`
	// LoginPath is the path prefix of the login page; landing there while
	// loading a product means the session is gone.
	LoginPath string `yaml:"login_path" validate:"required"`

	// bid form
	SizeOpen   string `yaml:"size_open"`
	SizeSheet  string `yaml:"size_sheet" validate:"required"`
	SizeTab    string `yaml:"size_tab" validate:"required"`
	SizeOption string `yaml:"size_option" validate:"required"`
	PriceInput string `yaml:"price_input" validate:"required"`
	Submit     string `yaml:"submit" validate:"required"`
	Confirm    string `yaml:"confirm"`
	Success    string `yaml:"success" validate:"required"`
	Rejection  string `yaml:"rejection" validate:"required"`
}

func DefaultSelectors() Selectors {
	return Selectors{
		LoginEmail:    `input[type="email"]`,
		LoginPassword: `input[type="password"]`,
		LoginSubmit:   `button[type="submit"]`,
		LoggedIn:      `[data-testid="account-menu"]`,
		LoginPath:     "/login",

		SizeOpen:   `[data-testid="size-select"]`,
		SizeSheet:  `[role="dialog"]`,
		SizeTab:    `[role="tab"]`,
		SizeOption: `[role="tabpanel"] button`,
		PriceInput: `input[name="price"]`,
		Submit:     `[data-testid="bid-submit"]`,
		Confirm:    `[data-testid="bid-confirm"]`,
		Success:    `[data-testid="bid-complete"]`,
		Rejection:  `[role="alert"]`,
	}
}

// LoadSelectors overlays a YAML selector file on the defaults. An empty
// path returns the defaults.
func LoadSelectors(path string) (Selectors, error) {
	if path == "" {
		return DefaultSelectors(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Selectors{}, fmt.Errorf("read selectors: %w", err)
	}
	return ParseSelectors(data)
}

func ParseSelectors(data []byte) (Selectors, error) {
	s := DefaultSelectors()
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Selectors{}, fmt.Errorf("parse selectors: %w", err)
	}
	if err := validator.New().Struct(s); err != nil {
		return Selectors{}, fmt.Errorf("invalid selectors: %w", err)
	}
	return s, nil
}
