// Package controls maps the panel's buttons and wings onto controller commands.
package controls

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/gosimple/slug"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/anicoll/scalemodel-panel/internal/pkg/model"
)

//go:embed controls.yaml
var defaultCatalogue []byte

var (
	ErrUnknownControl = errors.New("unknown control")
	// ErrNeedsItem is returned when a button only opens a submenu.
	ErrNeedsItem = errors.New("control needs a submenu item")
)

type Item struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

type Button struct {
	ID      string            `yaml:"id" json:"id"`
	Label   string            `yaml:"label" json:"label"`
	Command model.CommandType `yaml:"command" json:"command"`
	// Sticky submenus stay open until another main button is pressed.
	Sticky bool   `yaml:"sticky" json:"sticky,omitempty"`
	Items  []Item `yaml:"items" json:"items,omitempty"`
}

type Wing struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
}

type Catalogue struct {
	Buttons []Button `yaml:"buttons" json:"buttons"`
	Wings   []Wing   `yaml:"wings" json:"wings"`
}

// Default returns the built-in catalogue.
func Default() (*Catalogue, error) {
	return Load(defaultCatalogue)
}

func Load(data []byte) (*Catalogue, error) {
	c := &Catalogue{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse controls: %w", err)
	}
	for i := range c.Buttons {
		b := &c.Buttons[i]
		b.Label = strings.TrimSpace(b.Label)
		if !b.Command.Valid() {
			return nil, fmt.Errorf("button %q: unknown command %q", b.ID, b.Command)
		}
		for j := range b.Items {
			b.Items[j].Label = strings.TrimSpace(b.Items[j].Label)
		}
	}
	for i := range c.Wings {
		w := &c.Wings[i]
		w.Label = strings.TrimSpace(w.Label)
		if w.ID == "" {
			w.ID = slug.Make(w.Label)
		}
	}
	return c, nil
}

func (c *Catalogue) button(id string) (Button, error) {
	b, ok := lo.Find(c.Buttons, func(b Button) bool {
		return b.ID == strings.TrimSpace(id)
	})
	if !ok {
		return Button{}, fmt.Errorf("%w: button %q", ErrUnknownControl, id)
	}
	return b, nil
}

// Button resolves a main tray button.
func (c *Catalogue) Button(id string) (model.Command, error) {
	b, err := c.button(id)
	if err != nil {
		return model.Command{}, err
	}
	if len(b.Items) > 0 {
		return model.Command{}, fmt.Errorf("%w: %s", ErrNeedsItem, b.Label)
	}
	return model.Command{Type: b.Command}, nil
}

// SubItem resolves an entry of a button's submenu; the item label becomes the command item.
func (c *Catalogue) SubItem(parentID, itemID string) (model.Command, error) {
	b, err := c.button(parentID)
	if err != nil {
		return model.Command{}, err
	}
	item, ok := lo.Find(b.Items, func(i Item) bool {
		return i.ID == strings.TrimSpace(itemID)
	})
	if !ok {
		return model.Command{}, fmt.Errorf("%w: item %q of %s", ErrUnknownControl, itemID, b.Label)
	}
	return model.NewItemCommand(b.Command, item.Label), nil
}

// Wing finds a wing by id or label, so "a-wing", "A-WING" and "A Wing" all match.
func (c *Catalogue) Wing(ref string) (Wing, error) {
	key := slug.Make(ref)
	w, ok := lo.Find(c.Wings, func(w Wing) bool {
		return w.ID == key || slug.Make(w.Label) == key
	})
	if !ok {
		return Wing{}, fmt.Errorf("%w: wing %q", ErrUnknownControl, ref)
	}
	return w, nil
}

func (c *Catalogue) WingSelect(ref string) (model.Command, error) {
	w, err := c.Wing(ref)
	if err != nil {
		return model.Command{}, err
	}
	return model.NewWingCommand(model.WingSelect, w.ID), nil
}

func (c *Catalogue) WingClick(ref string) (model.Command, error) {
	w, err := c.Wing(ref)
	if err != nil {
		return model.Command{}, err
	}
	return model.NewWingCommand(model.WingClick, w.ID), nil
}
