/*
The sync package implements deploy's incremental synchronization algorithm.
It pushes a local directory tree to a remote root over a transport Session,
uploading only the files whose contents changed since the previous run.

There are three kinds of state:
1) The local tree -- the files found by Explore under the local root, minus
   the exclusion set.
2) The HashCache -- a persisted map from local path to the content digest of
   the version that was last uploaded successfully.
3) The RunRegistry -- the set of local paths seen during the current run.

A file is uploaded when its current digest differs from the one in the
HashCache (or there is none). The digest is only recorded after the upload
succeeds, so a failed upload is retried on the next run.

Once every file has been visited, paths that are in the HashCache but not in
the RunRegistry were removed locally. Their remote counterparts are deleted,
using the same path mapping that was used to upload them. This includes the
extension rewrite done by transform rules, so removing `style.scss` deletes
the remote `style.css`.

The sync algorithm only deals with files. Empty directories aren't synced,
and remote directories are never removed.
*/
package sync
