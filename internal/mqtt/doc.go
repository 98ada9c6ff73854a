// Package mqtt announces chat activity on an MQTT broker. After each
// agent run that appends messages, the new head of the chat is
// published as a retained message so other devices viewing the same
// chat can refresh.
//
// The connection is managed by Eclipse Paho v2's [autopaho] package,
// which reconnects automatically. On every (re-)connect a birth
// message ("online") is published to the availability topic; a will
// message moves it to "offline" on unexpected disconnects.
package mqtt
