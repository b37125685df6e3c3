package history

// WithRemoveFunc replaces the file removal used by delete, clear-all and eviction.
var WithRemoveFunc = withRemoveFunc
