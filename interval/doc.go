/*Package interval implements a small mutable interval union used to track
  how much of a read's length is covered by its surviving matches.
  (Note the 'union'.  Overlapping intervals are merged, not tracked
  separately.)  Unlike a static interval tree, a Set is cleared and rebuilt
  for every read, so insertion favors low allocation over supporting
  arbitrary removal.
*/
package interval
