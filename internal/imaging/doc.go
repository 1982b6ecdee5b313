// Package imaging loads, prepares and renders the images the matcher works on.
//
// It covers three steps around feature matching:
//   - Loading: ImageCache decodes each file at most once and remembers
//     failures, so a corrupt file is reported once however many pairs need it.
//     Decode handles PNG, JPEG (with EXIF orientation), GIF, BMP, TIFF, WebP,
//     HEIC/HEIF and the first page of PDF files.
//   - Preprocessing: Preprocessor converts to 8-bit grayscale and optionally
//     applies morphological openings to suppress speckle noise.
//   - Rendering: RenderMatches draws a template and a candidate side by side
//     with one colored line per correspondence.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//
// Preprocessed planes always start at (0,0), whatever the bounds of the
// decoded image.
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use. Preprocessing and rendering
// are stateless and never modify their inputs.
//
// # Performance Considerations
//
// Decoded images stay in the cache for the lifetime of a run. Use Evict() or
// Clear() to manage memory for long-running processes.
package imaging
