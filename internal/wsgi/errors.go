package wsgi

import "errors"

var (
	ErrLoad              = errors.New("wsgi: application module failed to load")
	ErrAttribute         = errors.New("wsgi: application attribute not found")
	ErrInvalidConfig     = errors.New("wsgi: invalid application config")
	ErrStartResponseArgs = errors.New("wsgi: invalid start_response arguments")
	ErrHeadersSent       = errors.New("wsgi: headers already sent")
)
