// Package instance persists named game instances.
//
// Every instance owns a directory under the instances root, named after the
// instance, containing a JSON descriptor (instance.cub) and whatever the
// game writes at runtime. The [Store] keeps an in-memory index that mirrors
// the directories on disk: a name is indexed exactly when its directory and
// descriptor exist.
//
// All file access goes through an afero.Fs, so tests run against
// afero.NewMemMapFs(). The optional [Watcher] reloads the index when the
// instances root changes outside of cubic.
package instance
