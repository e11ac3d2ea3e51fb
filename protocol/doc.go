package protocol

// This package implements encoding commands and decoding replies for the
// Redis serialization protocol (RESP), as spoken by the beacon client.
//
// === Requests
//
// Every command is sent as a multi bulk array of binary safe strings, the
// first one being the command name.
//
//   ```
//     *<argc>\r\n
//     $<len>\r\n<name>\r\n
//     $<len>\r\n<arg>\r\n
//     ...
//   ```
//
// === Replies
//
// The first byte of a reply tells its type
//
// - `+` - status, e.g. `+OK\r\n`. `+QUEUED\r\n` is decoded as Queued
// - `-` - error, e.g. `-ERR unknown command\r\n`
// - `:` - integer, e.g. `:1000\r\n`
// - `$` - bulk string, `$<len>\r\n<bytes>\r\n`. A length of -1 is the nil bulk
// - `*` - array, `*<count>\r\n` followed by count replies. A count of -1 is the nil array
//
// All lines are `\r\n` terminated.
//
// === Streaming
//
// Replies are pushed by the server in the order that the commands were sent.
// Sockets don't respect reply boundaries, so the Reader buffers partial
// replies across Feed calls and only hands out complete ones.
//
// === Results
//
// ParseResponse turns a raw reply into a command specific result, for
// example HGETALL becomes a map and EXISTS becomes a bool.
