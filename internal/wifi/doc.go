// Package wifi detects who is home by watching for their devices on the
// local network.
//
// A Source lists the MAC addresses currently answering on the LAN; ArpScan
// does so by running arp-scan. The Watcher polls the source, remembers when
// each address was last seen and publishes:
//
//   - tracker.wifi.initialized once, when it starts
//   - tracking.event.user_enter when a tracked address appears
//   - tracking.event.user_exit when a tracked address has not been seen for
//     the exit timeout
//
// Which addresses belong to whom is the "to_track" setting of the "wifi"
// settings module: a list of [name, mac] pairs editable at runtime.
//
// Phones drop off Wi-Fi when they sleep, which is why departure is based on
// a long timeout (10 minutes by default) rather than on a single missed scan.
package wifi
