// Package pixconv moves pixels between image.Image values and the packed
// single-plane layouts carried in frame buffers.
//
// Supported layouts are RGB3, BGR3, AB24 (R G B A in memory), GREY and YUYV
// (4:2:2, BT.601 full range as computed by image/color).
package pixconv
