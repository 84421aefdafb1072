// Package media defines the value types that cross the converter boundary:
// pixel formats, geometry, stream configurations and frame buffers.
//
// Frame buffers are borrowed by the converter core. They are created by the
// caller (or exported by a device) and handed back through completion
// notifications; nothing in the conversion path frees or reallocates them.
package media
