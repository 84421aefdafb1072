// Package hotplug watches udev for removal of the converter device node so a
// running pipeline can stop instead of waiting on a device that is gone.
package hotplug
