package transformer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// UserDefinedSlot is a user template replacing or extending one function
// of a resolver slot.
type UserDefinedSlot struct {
	ResolverTypeName  string
	ResolverFieldName string
	SlotName          SlotName
	// Order is the 0-based position within the slot.
	Order            int
	RequestResolver  *MappingTemplate
	ResponseResolver *MappingTemplate
}

// slotHash returns Type.field#slot.
func (s *UserDefinedSlot) slotHash() string {
	return s.ResolverTypeName + "." + s.ResolverFieldName + "#" + string(s.SlotName)
}

// UserDefinedSlots groups user slots by slot hash, then by order.
type UserDefinedSlots map[string]map[int]*UserDefinedSlot

// Len returns the number of user slots.
func (u UserDefinedSlots) Len() int {
	n := 0
	for _, byOrder := range u {
		n += len(byOrder)
	}
	return n
}

// Sorted returns the user slots ordered by slot hash, then by order.
func (u UserDefinedSlots) Sorted() []*UserDefinedSlot {
	hashes := sortedKeys(u)
	var out []*UserDefinedSlot
	for _, h := range hashes {
		orders := make([]int, 0, len(u[h]))
		for o := range u[h] {
			orders = append(orders, o)
		}
		sort.Ints(orders)
		for _, o := range orders {
			out = append(out, u[h][o])
		}
	}
	return out
}

// ParseUserDefinedSlots groups templates, keyed by file name, into user
// slots. Names that do not follow Type.field.slot[.order][.req|.res].vtl
// are returned in skipped, sorted.
func ParseUserDefinedSlots(templates map[string]string) (slots UserDefinedSlots, skipped []string) {
	slots = make(UserDefinedSlots)
	for _, name := range sortedKeys(templates) {
		parsed, isResponse, ok := parseSlotFileName(name)
		if !ok {
			skipped = append(skipped, name)
			continue
		}
		h := parsed.slotHash()
		if slots[h] == nil {
			slots[h] = make(map[int]*UserDefinedSlot)
		}
		s, ok := slots[h][parsed.Order]
		if !ok {
			s = parsed
			slots[h][parsed.Order] = s
		}
		tmpl := &MappingTemplate{Content: templates[name], Source: name}
		if isResponse {
			s.ResponseResolver = tmpl
		} else {
			s.RequestResolver = tmpl
		}
	}
	return slots, skipped
}

func parseSlotFileName(name string) (*UserDefinedSlot, bool, bool) {
	base, ok := strings.CutSuffix(filepath.Base(name), ".vtl")
	if !ok {
		return nil, false, false
	}
	parts := strings.Split(base, ".")
	isResponse := false
	switch parts[len(parts)-1] {
	case "res":
		isResponse = true
		parts = parts[:len(parts)-1]
	case "req":
		parts = parts[:len(parts)-1]
	}
	if len(parts) != 3 && len(parts) != 4 {
		return nil, false, false
	}
	slot, ok := ParseSlotName(parts[2])
	if !ok || parts[0] == "" || parts[1] == "" {
		return nil, false, false
	}
	order := 0
	if len(parts) == 4 {
		// A non-numeric order counts as the first position.
		if n, err := strconv.Atoi(parts[3]); err == nil && n >= 0 {
			order = n
		}
	}
	return &UserDefinedSlot{
		ResolverTypeName:  parts[0],
		ResolverFieldName: parts[1],
		SlotName:          slot,
		Order:             order,
	}, isResponse, true
}

// LoadUserTemplates reads every .vtl file of dir. A missing directory
// yields no templates.
func LoadUserTemplates(fs afero.Fs, dir string) (map[string]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read override dir %s: %w", dir, err)
	}
	templates := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".vtl" {
			continue
		}
		data, err := afero.ReadFile(fs, filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read override %s: %w", e.Name(), err)
		}
		templates[e.Name()] = string(data)
	}
	return templates, nil
}

// userTemplates returns the override templates of the run.
func (c *Config) userTemplates() (map[string]string, error) {
	if c.UserTemplates != nil {
		return c.UserTemplates, nil
	}
	if c.OverrideConfig == nil || c.OverrideConfig.OverrideDir == "" {
		return nil, nil
	}
	return LoadUserTemplates(c.Fs, c.OverrideConfig.OverrideDir)
}

// applyOverrides splices user slots into the matching resolvers and returns
// the overridden slot keys.
func applyOverrides(ctx *Context, slots UserDefinedSlots) ([]string, error) {
	var applied []string
	for _, s := range slots.Sorted() {
		r, ok := ctx.Resolvers.Get(s.ResolverTypeName, s.ResolverFieldName)
		if !ok {
			ctx.Logger.Warn("override targets an unknown resolver",
				"resolver", s.ResolverTypeName+"."+s.ResolverFieldName,
				"slot", s.SlotName,
			)
			continue
		}
		if err := r.UpdateSlot(s.SlotName, s.Order, s.RequestResolver, s.ResponseResolver); err != nil {
			return nil, err
		}
		applied = append(applied, fmt.Sprintf("%s.%s.%d", r.Key(), s.SlotName, s.Order))
	}
	return applied, nil
}
