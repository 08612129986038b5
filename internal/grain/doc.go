// Package grain builds, parses and classifies event grains.
//
// A grain is one timestamped envelope of path-addressed value changes:
//
//	{"grain_type":"event","source_id":"...","flow_id":"...",
//	 "origin_timestamp":"1718000037:000000000", ...,
//	 "grain":{"type":"urn:x-nmos:format:data.event","topic":"/",
//	          "data":[{"path":"fader/3","pre":0.2,"post":0.5}]}}
//
// Classify turns each data entry into a CommandEvent (button, rotary, gpio,
// tally, fader or property) using an ordered matcher table. Classification
// never fails; unknown paths degrade to CommandProperty.
//
// Consumers must drop grains whose SourceID equals their own emitted source
// before classifying them, or they will react to their own output.
package grain
