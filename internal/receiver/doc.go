// Package receiver supervises an slsReceiver daemon.
//
// When the receiver section of the configuration sets managed: true, the
// bridge starts slsReceiver with --rx_tcpport, probes that TCP port for
// liveness, restarts the daemon with exponential backoff when it exits or
// stops answering, and terminates it (SIGTERM, then SIGKILL) on shutdown.
package receiver
