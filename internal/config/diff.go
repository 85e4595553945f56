package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	BusinessesChanged bool           // true if any business persona changed
	BusinessChanges   []BusinessDiff // per-business diffs
	LogLevelChanged   bool
	NewLogLevel       LogLevel
}

// BusinessDiff describes what changed for a single business between two
// configs. Persona changes apply to calls started after the reload; live
// sessions keep the instructions they were opened with.
type BusinessDiff struct {
	ID                  string
	InstructionsChanged bool
	GreetingChanged     bool
	VoiceChanged        bool
	TemperatureChanged  bool
	Added               bool
	Removed             bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// Build business lookup maps keyed by ID.
	oldBiz := make(map[string]*BusinessConfig, len(old.Businesses))
	for i := range old.Businesses {
		oldBiz[old.Businesses[i].ID] = &old.Businesses[i]
	}
	newBiz := make(map[string]*BusinessConfig, len(new.Businesses))
	for i := range new.Businesses {
		newBiz[new.Businesses[i].ID] = &new.Businesses[i]
	}

	// Detect modified and removed businesses.
	for id, ob := range oldBiz {
		nb, exists := newBiz[id]
		if !exists {
			d.BusinessChanges = append(d.BusinessChanges, BusinessDiff{
				ID:      id,
				Removed: true,
			})
			d.BusinessesChanged = true
			continue
		}
		bd := diffBusiness(id, ob, nb)
		if bd.InstructionsChanged || bd.GreetingChanged || bd.VoiceChanged || bd.TemperatureChanged {
			d.BusinessChanges = append(d.BusinessChanges, bd)
			d.BusinessesChanged = true
		}
	}

	// Detect added businesses.
	for id := range newBiz {
		if _, exists := oldBiz[id]; !exists {
			d.BusinessChanges = append(d.BusinessChanges, BusinessDiff{
				ID:    id,
				Added: true,
			})
			d.BusinessesChanged = true
		}
	}

	return d
}

// diffBusiness compares two business configs with the same ID.
func diffBusiness(id string, old, new *BusinessConfig) BusinessDiff {
	bd := BusinessDiff{ID: id}

	if old.Instructions != new.Instructions {
		bd.InstructionsChanged = true
	}
	if old.Greeting != new.Greeting {
		bd.GreetingChanged = true
	}
	if old.Voice != new.Voice {
		bd.VoiceChanged = true
	}
	if old.Temperature != new.Temperature {
		bd.TemperatureChanged = true
	}

	return bd
}
