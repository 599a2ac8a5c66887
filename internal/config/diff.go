package config

import (
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Hot-reloadable changes carry their new value; everything else is listed in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ClassifierChanged bool
	NewClassifier     ClassifierConfig

	AnswerChanged bool
	NewAnswer     AnswerConfig

	// AnswerEnabledChanged is also covered by AnswerChanged.
	AnswerEnabledChanged bool

	VocabularyChanged bool
	NewVocabulary     VocabularyConfig

	// RestartRequired names the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Changed reports whether d holds any change at all.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.ClassifierChanged || d.AnswerChanged ||
		d.VocabularyChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !classifierEqual(old.Classifier, new.Classifier) {
		d.ClassifierChanged = true
		d.NewClassifier = new.Classifier
	}

	if old.Answer.IsEnabled() != new.Answer.IsEnabled() {
		d.AnswerEnabledChanged = true
	}
	if d.AnswerEnabledChanged || old.Answer.Settings() != new.Answer.Settings() {
		d.AnswerChanged = true
		d.NewAnswer = new.Answer
	}

	if !vocabularyEqual(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
		d.NewVocabulary = new.Vocabulary
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Answer.MaxConcurrent != new.Answer.MaxConcurrent || old.Answer.Timeout != new.Answer.Timeout {
		d.RestartRequired = append(d.RestartRequired, "answer")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Recorder != new.Recorder {
		d.RestartRequired = append(d.RestartRequired, "recorder")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func classifierEqual(a, b ClassifierConfig) bool {
	if !slices.Equal(a.Fillers, b.Fillers) {
		return false
	}
	a.Fillers, b.Fillers = nil, nil
	return reflect.DeepEqual(a, b)
}

func vocabularyEqual(a, b VocabularyConfig) bool {
	if !slices.Equal(a.Terms, b.Terms) {
		return false
	}
	a.Terms, b.Terms = nil, nil
	return reflect.DeepEqual(a, b)
}
