package pipeline

import "github.com/kawaz/voice-agent/internal/errors"

// unsupportedBackendError builds the configuration error every pluggable
// component's constructor returns for an unrecognized backend name.
func unsupportedBackendError(component, backend string) error {
	return errors.Newf("unsupported %s backend %q", component, backend).
		Category(errors.CategoryConfiguration).
		Context("component", component).
		Context("backend", backend).
		Build()
}
