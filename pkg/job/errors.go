package job

import "errors"

// errAlreadyStarted is returned by StartChildren when called more
// than once on the same Job.
var errAlreadyStarted = errors.New("job: already started")
