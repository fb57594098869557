/*
Package tso is the monotonic timestamp oracle: (physical ms, logical)
pairs where logical is an 18-bit counter under each millisecond.

Only the save window — the physical upper bound the leader may issue
below — goes through raft. GenTso itself is a mutex-guarded in-memory
bump, which is what makes allocation cheap. The window is committed
before the first timestamp under it is handed out, so a successor leader
(reading last_save_physical from its replicated state) always resumes
strictly above everything the old leader could have issued, even with a
wall clock running behind.

The 50 ms refresh fiber runs on the leader only: it advances physical to
max(now, physical+1), resets logical, and extends the window when half
consumed. Losing leadership cancels the fiber and marks the oracle
unhealthy before any further issuance.
*/
package tso
