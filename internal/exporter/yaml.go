package exporter

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// BuildYAML returns the dump document as YAML
func (e *Exporter) BuildYAML(ctx context.Context) (string, error) {
	if e.db == nil {
		return "", ErrNoDriver
	}
	doc, err := e.loadDocument(ctx)
	if err != nil {
		return "", err
	}

	if version, err := e.db.Version(ctx); err != nil {
		e.logger.Warn("server version unavailable", zap.Error(err))
	} else {
		doc.ServerVersion = version
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode yaml")
	}
	return strings.TrimRight(string(data), "\n"), nil
}
