package recorder

import _ "embed"

// bundleJS is the vendored recorder library, loaded into the page on every
// (re-)injection. This is a stub: a real deployment vendors an actual rrweb
// build here, following the teacher's pattern of embedding its compiled
// frontend at web/dist.
//
//go:embed vendor/recorder.js
var bundleJS string
