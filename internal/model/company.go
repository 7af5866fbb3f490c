package model

// CompanyData is the firmographic record returned by the enrichment provider.
// Field lookups key the grounding conflict check, so the struct is indexable
// by its JSON field name.
type CompanyData struct {
	Name      string   `json:"name"`
	Domain    string   `json:"domain"`
	Employees int      `json:"employees"`
	Industry  string   `json:"industry"`
	TechStack []string `json:"techStack"`
	Geo       string   `json:"geo"`
}

// Field returns the value of a firmographic field by name, or nil when the
// field is unknown or empty.
func (c *CompanyData) Field(name string) any {
	if c == nil {
		return nil
	}
	switch name {
	case "name":
		if c.Name == "" {
			return nil
		}
		return c.Name
	case "domain":
		if c.Domain == "" {
			return nil
		}
		return c.Domain
	case "employees":
		if c.Employees == 0 {
			return nil
		}
		return c.Employees
	case "industry":
		if c.Industry == "" {
			return nil
		}
		return c.Industry
	case "techStack":
		if len(c.TechStack) == 0 {
			return nil
		}
		return c.TechStack
	case "geo":
		if c.Geo == "" {
			return nil
		}
		return c.Geo
	default:
		return nil
	}
}

// AsMap renders the firmographics as an opaque record for persistence on the
// lead and for the sync_firmographics tool payload.
func (c *CompanyData) AsMap() map[string]any {
	if c == nil {
		return nil
	}
	return map[string]any{
		"name":      c.Name,
		"domain":    c.Domain,
		"employees": c.Employees,
		"industry":  c.Industry,
		"techStack": c.TechStack,
		"geo":       c.Geo,
	}
}
