package utils

import "errors"

// ErrorRecordNotFound is the lookup miss sentinel shared by the scoped
// resource helpers; handlers map it to a 404.
var ErrorRecordNotFound = errors.New("record not found")

// ErrorPanic aborts startup on errors nothing can recover from, such as a
// failed schema migration.
func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
