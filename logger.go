package ext4

import "github.com/sirupsen/logrus"

// log is the package-level logger, following the teacher's convention of
// a package logger rather than one threaded through every call. Every
// site that logs here represents a condition the package recovers from
// on its own; logging never substitutes for an error return.
var log = logrus.StandardLogger()
