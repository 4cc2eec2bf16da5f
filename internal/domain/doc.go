// Package domain holds the model types and component contracts of the
// rigging pipeline core: sessions, jobs, stage ordering, and the repository
// and collaborator interfaces the adapters implement.
package domain
