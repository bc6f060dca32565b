// Package notify sends desktop notifications for finished batches.
package notify

import "github.com/gen2brain/beeep"

// Desktop notifies via the OS notification system.
type Desktop struct{}

func (Desktop) Notify(title, message string) error {
	return beeep.Notify(title, message, "")
}
