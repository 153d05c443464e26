// Package config loads bridge configuration from TOML.
//
//	[wire]
//	int_encoding = "fixint"
//	max_container_depth = 128
//
//	[log]
//	level = "debug"
//	format = "json"
//
//	[peer]
//	wasm = "peer.wasm"
//	memory_limit_pages = 256
//
//	[[function]]
//	ordinal = 1
//	name = "add"
//	params = ["u32", "u32"]
//	result = "u32"
//
// Keys left out keep their defaults. Function signatures use schema type
// expressions.
package config
