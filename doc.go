/*
go-idtrack keeps stable identities for people seen in a live video stream and
derives the spatial relationships between them.

A slow person detector runs periodically in the background while a fast
tracker runs on every frame.  Tracks are smoothed, bridged across short
detection gaps, re-identified when the tracker hands out a new ID for a
person already seen and recorded in a time bounded ledger from which nearest
neighbors and directional risk zones are computed.

The Pipeline type ties these stages together.  The detector, tracking engine,
face mesh extractor and appearance embedder are interfaces with gocv DNN and
ByteTrack implementations provided in the detect, tracker, facemesh and reid
subpackages.

See example code and usage in the example subdirectory.
*/
package idtrack
