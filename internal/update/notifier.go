package update

// Notifier tells the client whether an update was just applied.
type Notifier struct {
	markers *MarkerStore
}

// NewNotifier creates a notifier for the install directory.
func NewNotifier(installDir string) *Notifier {
	return &Notifier{markers: NewMarkerStore(installDir)}
}

// Status reports the completed update record, if any, and the version of a
// downloaded update waiting for the next restart.
func (n *Notifier) Status() (*UpdateStatus, error) {
	status := &UpdateStatus{}

	completed, err := n.markers.ReadCompleted()
	if err != nil {
		return nil, err
	}
	if completed != nil {
		appliedAt := completed.AppliedAt
		status.Pending = true
		status.Version = completed.Version
		status.AppliedAt = &appliedAt
	}

	if pending, err := n.markers.ReadPending(); err == nil {
		status.DownloadedVersion = pending.Version
	}

	return status, nil
}

// Clear acknowledges the completed update so it is not reported again.
func (n *Notifier) Clear() error {
	return n.markers.DeleteCompleted()
}
